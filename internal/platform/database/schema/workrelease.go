package schema

// WorkReleaseTable represents the 'workrelease' table
type WorkReleaseTable struct {
	Table       string
	ID          string
	WorkID      string
	ReleaseKind string
	Number      string
	Platform    string
	ReleaseDate string
	Source      string
	SourceURL   string
	CreatedAt   string
}

// WorkRelease is the schema definition for workrelease
var WorkRelease = WorkReleaseTable{
	Table:       "workrelease",
	ID:          "id",
	WorkID:      "workid",
	ReleaseKind: "releasekind",
	Number:      "number",
	Platform:    "platform",
	ReleaseDate: "releasedate",
	Source:      "source",
	SourceURL:   "sourceurl",
	CreatedAt:   "createdat",
}

func (t WorkReleaseTable) Columns() []string {
	return []string{
		t.ID, t.WorkID, t.ReleaseKind, t.Number, t.Platform,
		t.ReleaseDate, t.Source, t.SourceURL, t.CreatedAt,
	}
}
