package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/moshr/internal/models"
)

// AllMigrations returns every migration in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001JobHistory(),
		migration002HistoryStatusIndex(),
	}
}

func migration001JobHistory() Migration {
	return Migration{
		Version:     "001",
		Description: "Create job_history table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.JobRecord{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.JobRecord{})
		},
	}
}

func migration002HistoryStatusIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index job_history by status and finish time",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.JobRecord{}, "idx_job_history_status_finished") {
				return nil
			}
			return tx.Exec("CREATE INDEX idx_job_history_status_finished ON job_history (status, finished_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.JobRecord{}, "idx_job_history_status_finished")
		},
	}
}
