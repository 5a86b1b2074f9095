package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lamim/bookforge/pkg/models"
)

// eventBufferSize is the per-subscriber channel buffer. A slow consumer
// loses fine-grained status updates rather than stalling generation.
const eventBufferSize = 256

// Emitter fans generation events out to per-project subscribers over
// buffered channels. Delivery is non-blocking: when a subscriber's buffer
// is full the event is dropped, which is acceptable because every terminal
// transition is also reflected in the project snapshot and the checkpoint.
type Emitter struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan models.StatusEvent // project id -> sub id -> channel
}

// NewEmitter creates an event emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		logger: logger,
		subs:   make(map[string]map[int]chan models.StatusEvent),
	}
}

// Subscribe returns a channel of events for one project and a cancel
// function that closes it. Multiple subscribers per project are allowed.
func (e *Emitter) Subscribe(projectID string) (<-chan models.StatusEvent, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	ch := make(chan models.StatusEvent, eventBufferSize)
	if e.subs[projectID] == nil {
		e.subs[projectID] = make(map[int]chan models.StatusEvent)
	}
	e.subs[projectID][id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[projectID][id]; ok {
			delete(e.subs[projectID], id)
			if len(e.subs[projectID]) == 0 {
				delete(e.subs, projectID)
			}
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber of its project.
func (e *Emitter) Emit(evt models.StatusEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs[evt.ProjectID] {
		select {
		case ch <- evt:
		default:
			e.logger.Debug("Dropping event for slow subscriber",
				"project_id", evt.ProjectID, "kind", evt.Kind)
		}
	}
}
