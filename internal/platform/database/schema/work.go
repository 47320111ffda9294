package schema

// WorkTable represents the 'work' table
type WorkTable struct {
	Table       string
	ID          string
	Title       string
	TitleKana   string
	TitleEn     string
	Kind        string
	OfficialURL string
	CreatedAt   string
}

// Work is the schema definition for work
var Work = WorkTable{
	Table:       "work",
	ID:          "id",
	Title:       "title",
	TitleKana:   "titlekana",
	TitleEn:     "titleen",
	Kind:        "kind",
	OfficialURL: "officialurl",
	CreatedAt:   "createdat",
}

func (t WorkTable) Columns() []string {
	return []string{
		t.ID, t.Title, t.TitleKana, t.TitleEn, t.Kind, t.OfficialURL, t.CreatedAt,
	}
}
