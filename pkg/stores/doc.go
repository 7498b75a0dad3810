// Package stores persists manifest execution history.
//
// SQLiteStore keeps one row per execution in the runs table and a snapshot
// of every submitted resource descriptor in run_resources, so two runs of
// the same manifest class can be compared later. The schema is managed by
// embedded golang-migrate migrations and the database runs in WAL mode.
//
// SQLiteStore implements manifest.Recorder:
//
//	store, _ := stores.NewSQLiteStore(stores.Config{Path: ".froyo/manifests.db"})
//	_ = store.Init(ctx)
//	_ = store.Migrate(ctx)
//	m := class.New(manifest.WithRecorder(store))
package stores
