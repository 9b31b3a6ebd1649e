package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/course-scheduler/internal/application"
	"github.com/example/course-scheduler/internal/parse"
	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/persistence/memory"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// ImportServiceDeps captures dependencies for constructing an import service.
// A nil Store selects a fresh in-memory store and a nil Logger discards output.
type ImportServiceDeps struct {
	Store          persistence.DocumentStore
	BatchLimit     int
	TransactionTTL time.Duration
	Classifier     *parse.RoleClassifier
	Logger         *slog.Logger
}

// NewImportService builds an import service using the supplied dependencies
// combined with the factory defaults.
func (f *ServiceFactory) NewImportService(deps ImportServiceDeps) *application.ImportService {
	store := deps.Store
	if store == nil {
		store = memory.New(0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return application.NewImportServiceWithLogger(store, application.ImportServiceConfig{
		BatchLimit:     deps.BatchLimit,
		TransactionTTL: deps.TransactionTTL,
		Classifier:     deps.Classifier,
		IDGenerator:    f.IDGenerator.NextFunc(),
		Now:            f.Clock.NowFunc(),
	}, logger)
}
