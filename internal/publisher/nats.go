package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("schoolbus-tracker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: subjectToken(prefix), logSubjects: logSubjects, metrics: m, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// PositionMessage is published once per simulator tick.
type PositionMessage struct {
	BusID        string    `json:"busId"`
	RunID        string    `json:"runId"`
	RouteID      string    `json:"routeId"`
	Timestamp    time.Time `json:"timestamp"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Bearing      float64   `json:"bearing"`
	Progress     float64   `json:"progress"`
	SpeedMps     float64   `json:"speedMps"`
	SegmentIndex int       `json:"segmentIndex"`
	Status       string    `json:"status"`
	NextStop     string    `json:"nextStop,omitempty"`
	NextStopMin  *int      `json:"nextStopEtaMinutes,omitempty"`
}

// AlertMessage relays a driver alert or message fetched from the API.
type AlertMessage struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// PositionSubject is <prefix>.positions.<route>.<bus>.
func (p *NATSPublisher) PositionSubject(routeID, busID string) string {
	return PositionSubject(p.prefix, routeID, busID)
}

func PositionSubject(prefix, routeID, busID string) string {
	return fmt.Sprintf("%s.positions.%s.%s", subjectToken(prefix), subjectToken(routeID), subjectToken(busID))
}

func AlertSubject(prefix, kind string) string {
	return fmt.Sprintf("%s.alerts.%s", subjectToken(prefix), subjectToken(kind))
}

func (p *NATSPublisher) PublishPosition(routeID, busID string, msg PositionMessage) error {
	return p.publish(p.PositionSubject(routeID, busID), msg)
}

func (p *NATSPublisher) PublishAlert(msg AlertMessage) error {
	return p.publish(AlertSubject(p.prefix, msg.Kind), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", slog.String("subject", subject))
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
