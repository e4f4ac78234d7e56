package database

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vigil/shared"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func (r *Repository) WithTransaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func asJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// Stores the report with its hosts and classified records
func (r *Repository) SaveReport(report *shared.Report) (*Scan, error) {
	findings, err := asJSON(report.Findings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode findings")
	}

	scan := &Scan{
		Domain:     report.Domain,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Findings:   findings,
	}
	for _, h := range report.Hosts {
		addrs, err := asJSON(h.Addresses)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode host %s", h.Hostname)
		}
		scan.Hosts = append(scan.Hosts, Host{Hostname: h.Hostname, Source: h.Source, Addresses: addrs})
	}
	for i := range report.Classified {
		rec := &report.Classified[i]
		data, err := asJSON(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode result %s", rec.Hostname)
		}
		categories, _ := asJSON(rec.Categories)
		scan.Results = append(scan.Results, Result{
			Hostname:   rec.Hostname,
			URL:        rec.URL(),
			StatusCode: rec.StatusCode,
			RiskScore:  rec.RiskScore,
			Categories: categories,
			Notes:      rec.Notes,
			Data:       data,
		})
	}

	err = r.WithTransaction(func(tx *gorm.DB) error {
		return tx.Create(scan).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to save scan")
	}
	return scan, nil
}

func (r *Repository) Scans() ([]*Scan, error) {
	var scans []*Scan
	err := r.db.Preload("Hosts").Order("id").Find(&scans).Error
	return scans, errors.Wrap(err, "failed to list scans")
}

// Classified records of a scan, riskiest first
func (r *Repository) Results(scanID uint) ([]shared.ClassifiedRecord, error) {
	var results []*Result
	err := r.db.Where("scan_id = ?", scanID).Order("risk_score DESC, id").Find(&results).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load results of scan %d", scanID)
	}
	return decode(results)
}

// Riskiest records across every stored scan
func (r *Repository) TopRisks(limit int) ([]shared.ClassifiedRecord, error) {
	var results []*Result
	err := r.db.Order("risk_score DESC, id").Limit(limit).Find(&results).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load top risks")
	}
	return decode(results)
}

func decode(results []*Result) ([]shared.ClassifiedRecord, error) {
	records := make([]shared.ClassifiedRecord, 0, len(results))
	for _, res := range results {
		var rec shared.ClassifiedRecord
		if err := json.Unmarshal(res.Data, &rec); err != nil {
			return nil, errors.Wrapf(err, "failed to decode result %d", res.ID)
		}
		records = append(records, rec)
	}
	return records, nil
}
