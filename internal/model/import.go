package model

// SeedFile is the JSON document loaded by the seed command.
type SeedFile struct {
	Employees []EmployeeImport `json:"employees"`
	Scenarios []ScenarioImport `json:"scenarios"`
}

// EmployeeImport is used for loading employees from JSON.
type EmployeeImport struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Rating     int    `json:"rating"`
}

// ScenarioImport is used for loading scenarios from JSON.
type ScenarioImport struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Skill       string       `json:"skill"`
	Difficulty  string       `json:"difficulty"`
	Rubric      string       `json:"rubric"`
	Type        ScenarioType `json:"type"`
	Questions   []Question   `json:"questions"`
}
