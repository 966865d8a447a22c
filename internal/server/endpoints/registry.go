package endpoints

import (
	"github.com/blingtien/rag-system-sub000/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Batch endpoints
		&SubmitBatchEndpoint{},
		&ListBatchesEndpoint{},
		&GetBatchEndpoint{},
		&CancelBatchEndpoint{},
		&ProgressEndpoint{},
	}
}
