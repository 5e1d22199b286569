package table

import (
	"context"
	"fmt"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/surfacelab/pesscan/pkg/fsutil"
	"github.com/surfacelab/pesscan/pkg/scan"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// runRow is one aggregate table row in the sqlite artifact.
type runRow struct {
	ID                   uint   `gorm:"primaryKey"`
	Calculation          string `gorm:"not null;uniqueIndex"`
	RunIndex             *int   `gorm:"column:run_index;index"`
	EnergyWithoutEntropy *float64
	EnergySigma0         *float64 `gorm:"column:energy_sigma0"`
	FreeEnergy           *float64
	Converged            bool
	ElectronicSteps      int
	IonicSteps           int
	CPUTimeSec           *float64 `gorm:"column:cpu_time_sec"`
	Status               string   `gorm:"index"`
	Error                string   `gorm:"type:text"`
}

// TableName specifies the table name for runRow.
func (runRow) TableName() string {
	return "energies"
}

// summaryRow is one Statistic/Value pair in the sqlite artifact.
type summaryRow struct {
	Statistic string `gorm:"primaryKey"`
	Value     *float64
}

// TableName specifies the table name for summaryRow.
func (summaryRow) TableName() string {
	return "summary"
}

func newRunRow(r *scan.Record) runRow {
	return runRow{
		Calculation:          r.Name,
		RunIndex:             r.Index,
		EnergyWithoutEntropy: r.EnergyWithoutEntropy,
		EnergySigma0:         r.EnergySigma0,
		FreeEnergy:           r.FreeEnergy,
		Converged:            r.Converged,
		ElectronicSteps:      r.ElectronicSteps,
		IonicSteps:           r.IonicSteps,
		CPUTimeSec:           r.CPUTimeSec,
		Status:               string(r.Status),
		Error:                r.Error,
	}
}

// cells renders the row in Columns order.
func (r *runRow) cells() []string {
	return []string{
		r.Calculation,
		formatIndex(r.RunIndex),
		formatFloat(r.EnergyWithoutEntropy),
		formatFloat(r.EnergySigma0),
		formatFloat(r.FreeEnergy),
		formatBool(r.Converged),
		fmt.Sprint(r.ElectronicSteps),
		fmt.Sprint(r.IonicSteps),
		formatFloat(r.CPUTimeSec),
		r.Status,
		r.Error,
	}
}

// sqliteWriter writes the table and summary into a single sqlite database.
// The database is built next to the target and renamed into place.
type sqliteWriter struct {
	owner *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Writer = (*sqliteWriter)(nil)

func (w *sqliteWriter) Format() Format {
	return FormatSQLite
}

func (w *sqliteWriter) Write(ctx context.Context, names Names, t *scan.Table, s *Summary) ([]string, error) {
	path := names.Table("sqlite")

	staged, err := fsutil.TempSibling(path)
	if err != nil {
		return nil, err
	}

	if err := writeSQLite(ctx, staged, t, s); err != nil {
		_ = os.Remove(staged)

		return nil, err
	}

	if err := fsutil.Publish(staged, path, 0o644, w.owner); err != nil {
		_ = os.Remove(staged)

		return nil, fmt.Errorf("publishing %s: %w", path, err)
	}

	return []string{path}, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	return db, nil
}

func closeSQLite(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func writeSQLite(ctx context.Context, path string, t *scan.Table, s *Summary) (err error) {
	db, err := openSQLite(path)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := closeSQLite(db); cerr != nil && err == nil {
			err = cerr
		}
	}()

	db = db.WithContext(ctx)

	if err := db.AutoMigrate(&runRow{}, &summaryRow{}); err != nil {
		return fmt.Errorf("running sqlite migrations: %w", err)
	}

	rows := make([]runRow, 0, len(t.Records))
	for i := range t.Records {
		rows = append(rows, newRunRow(&t.Records[i]))
	}

	if len(rows) > 0 {
		if err := db.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("inserting rows: %w", err)
		}
	}

	if s.Successful > 0 {
		stats := make([]summaryRow, 0, 11)
		for _, row := range s.Rows() {
			entry := summaryRow{Statistic: row.Statistic}
			if row.Finite() {
				entry.Value = &row.Value
			}

			stats = append(stats, entry)
		}

		if err := db.Create(&stats).Error; err != nil {
			return fmt.Errorf("inserting summary: %w", err)
		}
	}

	return nil
}

// readSQLite loads the energies table of a database written by sqliteWriter
// into a string grid with the standard header.
func readSQLite(path string) ([][]string, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer closeSQLite(db) //nolint:errcheck // read only

	var rows []runRow
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading energies table: %w", err)
	}

	grid := make([][]string, 0, len(rows)+1)
	grid = append(grid, Columns)

	for i := range rows {
		grid = append(grid, rows[i].cells())
	}

	return grid, nil
}
