package migrations

import (
	"database/sql"
	"os"
	"regexp"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const migrationsTable = "schema_migrations_migrate"

// RunMigrations runs file-based migrations in dir using the postgres driver.
// It will attempt to baseline the DB to the latest migration if the DB already
// has the schema (lobbies table exists) but migrate's metadata table is missing.
func RunMigrations(databaseURL, dir string, log *logrus.Entry) error {
	if databaseURL == "" {
		return errors.New("database URL is empty")
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return errors.Wrap(err, "failed to open DB")
	}
	defer sqlDB.Close()

	driver, err := pg.WithInstance(sqlDB, &pg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return errors.Wrap(err, "failed to create migrate driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "failed to create migrate instance")
	}

	// If DB already has schema but migrate metadata table does not exist, baseline to latest migration
	if tableExists(sqlDB, "lobbies") && !tableExists(sqlDB, migrationsTable) {
		latest := findLatestMigrationVersion(dir)
		if latest > 0 {
			log.WithField("version", latest).Info("baseline DB (existing schema present)")
			if ferr := m.Force(int(latest)); ferr != nil {
				log.WithError(ferr).WithField("version", latest).Warn("force to version failed")
			}
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "migration up failed")
	}

	log.Info("migrations applied (no changes or up completed)")
	return nil
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	row := db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", name)
	return row.Scan(&exists) == nil && exists
}

// findLatestMigrationVersion scans the migrations directory for files that start with
// a numeric version prefix (e.g. 000001_) and returns the highest version number.
func findLatestMigrationVersion(dir string) int64 {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	re := regexp.MustCompile(`^0*([0-9]+)_`)
	var max int64
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(f.Name())
		if len(m) < 2 {
			continue
		}
		v, _ := strconv.ParseInt(m[1], 10, 64)
		if v > max {
			max = v
		}
	}

	return max
}
