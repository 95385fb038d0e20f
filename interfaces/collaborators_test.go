package interfaces

import (
	"errors"
	"testing"
)

// TestCollaboratorConfigValidate tests the Validate method of CollaboratorConfig.
func TestCollaboratorConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  CollaboratorConfig
		wantErr error
	}{
		{
			name: "valid real config",
			config: CollaboratorConfig{
				TranscriberURL:     "http://127.0.0.1:8080/inference",
				TranscriberTimeout: 60000,
				AlertRetryAttempts: 3,
			},
			wantErr: nil,
		},
		{
			name: "valid simulation without endpoint",
			config: CollaboratorConfig{
				UseSimulation:      true,
				TranscriberTimeout: 1000,
			},
			wantErr: nil,
		},
		{
			name: "invalid zero timeout",
			config: CollaboratorConfig{
				UseSimulation: true,
			},
			wantErr: ErrInvalidTimeout,
		},
		{
			name: "invalid negative retries",
			config: CollaboratorConfig{
				UseSimulation:      true,
				TranscriberTimeout: 1000,
				AlertRetryAttempts: -1,
			},
			wantErr: ErrInvalidRetryAttempts,
		},
		{
			name: "real transcriber without endpoint",
			config: CollaboratorConfig{
				TranscriberTimeout: 1000,
			},
			wantErr: ErrMissingEndpoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
