package schema

// ChannelSyncStateTable represents the 'channelsyncstate' table
type ChannelSyncStateTable struct {
	Table         string
	ReleaseID     string
	Channel       string
	Status        string
	ExternalRef   string
	AttemptCount  string
	LastAttemptAt string
	NextAttemptAt string
	LastError     string
	Permanent     string
	UpdatedAt     string
}

// ChannelSyncState is the schema definition for channelsyncstate
var ChannelSyncState = ChannelSyncStateTable{
	Table:         "channelsyncstate",
	ReleaseID:     "releaseid",
	Channel:       "channel",
	Status:        "status",
	ExternalRef:   "externalref",
	AttemptCount:  "attemptcount",
	LastAttemptAt: "lastattemptat",
	NextAttemptAt: "nextattemptat",
	LastError:     "lasterror",
	Permanent:     "permanent",
	UpdatedAt:     "updatedat",
}

func (t ChannelSyncStateTable) Columns() []string {
	return []string{
		t.ReleaseID, t.Channel, t.Status, t.ExternalRef, t.AttemptCount,
		t.LastAttemptAt, t.NextAttemptAt, t.LastError, t.Permanent, t.UpdatedAt,
	}
}
