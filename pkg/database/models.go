package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// A single run of the pipeline against a domain
type Scan struct {
	gorm.Model

	Domain     string `gorm:"index"`
	StartedAt  time.Time
	FinishedAt time.Time
	Hosts      []Host   `gorm:"constraint:OnDelete:CASCADE"`
	Results    []Result `gorm:"constraint:OnDelete:CASCADE"`
	Findings   datatypes.JSON
}

// A discovered hostname that resolved
type Host struct {
	gorm.Model

	ScanID    uint   `gorm:"index"`
	Hostname  string `gorm:"index"`
	Source    string
	Addresses datatypes.JSON
}

// A classified probe record
type Result struct {
	gorm.Model

	ScanID     uint   `gorm:"index"`
	Hostname   string `gorm:"index"`
	URL        string
	StatusCode int
	RiskScore  int `gorm:"index"`
	Categories datatypes.JSON
	Notes      string
	// The full classified record
	Data datatypes.JSON
}
