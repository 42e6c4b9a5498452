// Package database provides SQLite storage for the Tasmota bridge.
//
// The bridge keeps two things on disk: the paired device records (their
// settings and capability lists, so device instances can be rebuilt on
// restart) and the last observed firmware release for the version notifier.
//
// Schema changes are versioned SQL files embedded by the migrations package
// and applied in filename order:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
