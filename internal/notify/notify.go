// Package notify tells external workflow collaborators about newly stored
// photos and finalized inspections. Notifications are fire-and-forget from
// the caller's point of view: a failure is reported back as a warning and
// never undoes the save that triggered it.
package notify

import (
	"context"
	"log/slog"
)

// PhotoBatch lists the photos one save uploaded.
type PhotoBatch struct {
	PropertyID   string   `json:"propertyId"`
	Kind         string   `json:"kind"`
	InspectionID int64    `json:"inspectionId"`
	URLs         []string `json:"urls"`
}

// Finalized describes an inspection that has just been closed.
type Finalized struct {
	PropertyID   string         `json:"propertyId"`
	Kind         string         `json:"kind"`
	InspectionID int64          `json:"inspectionId"`
	ElementCount int            `json:"elementCount"`
	Fields       map[string]any `json:"fields,omitempty"`
}

type Notifier interface {
	PhotosUploaded(ctx context.Context, batch PhotoBatch) error
	InspectionFinalized(ctx context.Context, f Finalized) error
}

// LogNotifier only records notifications in the log. It is used when no
// webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PhotosUploaded(_ context.Context, batch PhotoBatch) error {
	n.logger.Info("photos uploaded", "property_id", batch.PropertyID, "kind", batch.Kind,
		"inspection_id", batch.InspectionID, "count", len(batch.URLs))
	return nil
}

func (n *LogNotifier) InspectionFinalized(_ context.Context, f Finalized) error {
	n.logger.Info("inspection finalized", "property_id", f.PropertyID, "kind", f.Kind,
		"inspection_id", f.InspectionID, "elements", f.ElementCount)
	return nil
}
