package schema

// NotificationLogTable represents the 'notificationlog' table
type NotificationLogTable struct {
	Table       string
	ID          string
	RunID       string
	ReleaseID   string
	Channel     string
	Status      string
	Attempt     string
	Error       string
	ExternalRef string
	Permanent   string
	RecordedAt  string
}

var NotificationLog = NotificationLogTable{
	Table:       "notificationlog",
	ID:          "id",
	RunID:       "runid",
	ReleaseID:   "releaseid",
	Channel:     "channel",
	Status:      "status",
	Attempt:     "attempt",
	Error:       "error",
	ExternalRef: "externalref",
	Permanent:   "permanent",
	RecordedAt:  "recordedat",
}
