package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/internal/entity"
	"github.com/xraph/payhook/record"
)

// --- Job models ---

type jobModel struct {
	grove.BaseModel `grove:"table:payhook_jobs"`

	ID             string          `grove:"id,pk"`
	EndpointID     string          `grove:"endpoint_id"`
	MerchantID     string          `grove:"merchant_id"`
	URL            string          `grove:"url"`
	Payload        json.RawMessage `grove:"payload,type:jsonb"`
	State          string          `grove:"state"`
	AttemptsMade   int             `grove:"attempts_made"`
	MaxAttempts    int             `grove:"max_attempts"`
	NextAttemptAt  time.Time       `grove:"next_attempt_at"`
	LockedUntil    *time.Time      `grove:"locked_until"`
	LastError      string          `grove:"last_error"`
	LastStatusCode int             `grove:"last_status_code"`
	CompletedAt    *time.Time      `grove:"completed_at"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toJobModel(j *delivery.Job) *jobModel {
	payload, _ := json.Marshal(j.Payload) //nolint:errcheck // Payload has no unmarshalable fields
	var epID string
	if !j.EndpointID.IsNil() {
		epID = j.EndpointID.String()
	}
	return &jobModel{
		ID:             j.ID,
		EndpointID:     epID,
		MerchantID:     j.MerchantID,
		URL:            j.URL,
		Payload:        payload,
		State:          string(j.State),
		AttemptsMade:   j.AttemptsMade,
		MaxAttempts:    j.MaxAttempts,
		NextAttemptAt:  j.NextAttemptAt,
		LockedUntil:    j.LockedUntil,
		LastError:      j.LastError,
		LastStatusCode: j.LastStatusCode,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*delivery.Job, error) {
	var epID id.ID
	if m.EndpointID != "" {
		var err error
		if epID, err = id.ParseEndpointID(m.EndpointID); err != nil {
			return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
		}
	}
	p, err := decodePayload(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", m.ID, err)
	}
	return &delivery.Job{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             m.ID,
		EndpointID:     epID,
		MerchantID:     m.MerchantID,
		URL:            m.URL,
		Payload:        p,
		State:          delivery.State(m.State),
		AttemptsMade:   m.AttemptsMade,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt,
		LockedUntil:    m.LockedUntil,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// --- Delivery record models ---

type recordModel struct {
	grove.BaseModel `grove:"table:payhook_delivery_events"`

	JobID        string          `grove:"job_id,pk"`
	MerchantID   string          `grove:"merchant_id"`
	WebhookURL   string          `grove:"webhook_url"`
	Payload      json.RawMessage `grove:"payload,type:jsonb"`
	Status       string          `grove:"status"`
	Error        string          `grove:"error"`
	AttemptsMade int             `grove:"attempts_made"`
	MaxAttempts  int             `grove:"max_attempts"`
	NextRetry    *time.Time      `grove:"next_retry"`
	CompletedAt  *time.Time      `grove:"completed_at"`
	CreatedAt    time.Time       `grove:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"`
}

func toRecordModel(r *record.DeliveryEvent) *recordModel {
	payload, _ := json.Marshal(r.Payload) //nolint:errcheck // Payload has no unmarshalable fields
	return &recordModel{
		JobID:        r.JobID,
		MerchantID:   r.MerchantID,
		WebhookURL:   r.WebhookURL,
		Payload:      payload,
		Status:       string(r.Status),
		Error:        r.Error,
		AttemptsMade: r.AttemptsMade,
		MaxAttempts:  r.MaxAttempts,
		NextRetry:    r.NextRetry,
		CompletedAt:  r.CompletedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) (*record.DeliveryEvent, error) {
	p, err := decodePayload(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", m.JobID, err)
	}
	return &record.DeliveryEvent{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		JobID:        m.JobID,
		MerchantID:   m.MerchantID,
		WebhookURL:   m.WebhookURL,
		Payload:      p,
		Status:       record.Status(m.Status),
		Error:        m.Error,
		AttemptsMade: m.AttemptsMade,
		MaxAttempts:  m.MaxAttempts,
		NextRetry:    m.NextRetry,
		CompletedAt:  m.CompletedAt,
	}, nil
}

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:payhook_endpoints"`

	ID          string            `grove:"id,pk"`
	MerchantID  string            `grove:"merchant_id"`
	URL         string            `grove:"url"`
	Description string            `grove:"description"`
	Secret      string            `grove:"secret"`
	Enabled     bool              `grove:"enabled"`
	Metadata    map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:          ep.ID.String(),
		MerchantID:  ep.MerchantID,
		URL:         ep.URL,
		Description: ep.Description,
		Secret:      ep.Secret,
		Enabled:     ep.Enabled,
		Metadata:    ep.Metadata,
		CreatedAt:   ep.CreatedAt,
		UpdatedAt:   ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          epID,
		MerchantID:  m.MerchantID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		Enabled:     m.Enabled,
		Metadata:    m.Metadata,
	}, nil
}

// --- Alert models ---

type alertModel struct {
	grove.BaseModel `grove:"table:payhook_alerts"`

	ID             string     `grove:"id,pk"`
	MerchantID     string     `grove:"merchant_id"`
	WebhookURL     string     `grove:"webhook_url"`
	TransactionID  string     `grove:"transaction_id"`
	Error          string     `grove:"error"`
	AttemptNumber  int        `grove:"attempt_number"`
	JobID          string     `grove:"job_id"`
	RaisedAt       time.Time  `grove:"raised_at"`
	AcknowledgedAt *time.Time `grove:"acknowledged_at"`
	ReplayedAt     *time.Time `grove:"replayed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toAlertModel(a *alert.Alert) *alertModel {
	return &alertModel{
		ID:             a.ID.String(),
		MerchantID:     a.MerchantID,
		WebhookURL:     a.WebhookURL,
		TransactionID:  a.TransactionID,
		Error:          a.Error,
		AttemptNumber:  a.AttemptNumber,
		JobID:          a.JobID,
		RaisedAt:       a.Timestamp,
		AcknowledgedAt: a.AcknowledgedAt,
		ReplayedAt:     a.ReplayedAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAlertModel(m *alertModel) (*alert.Alert, error) {
	alertID, err := id.ParseAlertID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse alert ID %q: %w", m.ID, err)
	}
	return &alert.Alert{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             alertID,
		MerchantID:     m.MerchantID,
		WebhookURL:     m.WebhookURL,
		TransactionID:  m.TransactionID,
		Error:          m.Error,
		AttemptNumber:  m.AttemptNumber,
		JobID:          m.JobID,
		Timestamp:      m.RaisedAt,
		AcknowledgedAt: m.AcknowledgedAt,
		ReplayedAt:     m.ReplayedAt,
	}, nil
}

func decodePayload(raw []byte) (*event.Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	p := new(event.Payload)
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
