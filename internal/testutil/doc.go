// Package testutil holds fixtures shared by the cmdgate tests.
//
// Stores are real SQLite files under t.TempDir, closed through t.Cleanup.
// Risk verdicts come from MockAssessor so gateway tests never depend on the
// heuristic tiers or a live Ollama server.
//
// A typical gateway test starts with:
//
//	database := testutil.NewTestDB(t)
//	admin := testutil.MakeAdmin(t, database)
//	member := testutil.MakeUser(t, database, testutil.WithCredits(1))
package testutil
