package main

import (
	"testing"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestAdapterSettingsDialTimeout(t *testing.T) {
	tests := []struct {
		name      string
		execution config.ExecutionConfig
		want      time.Duration
	}{
		{
			name:      "dial timeout is independent of the step timeout",
			execution: config.ExecutionConfig{DefaultTimeout: 2 * time.Minute, DialTimeout: 3 * time.Second},
			want:      3 * time.Second,
		},
		{
			name:      "unset keeps the adapter default",
			execution: config.ExecutionConfig{DefaultTimeout: 2 * time.Minute},
			want:      10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := adapterSettings(&config.Config{Execution: tt.execution})
			assert.Equal(t, tt.want, s.DialTimeout)
			assert.NotNil(t, s.MQTT.NewClient)
		})
	}
}
