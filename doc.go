// Package getanswer provides the credit ledger and query pipeline behind a
// photographed-question answering app.
//
// getanswer is designed as a library first. The same services back the
// mobile API server and the command line tool in cmd/getanswer. It provides:
//
//   - A durable credit ledger with an append-only transaction log
//   - A query pipeline that charges immediately before inference
//     and refunds every failed or cancelled run
//   - A bounded, newest-first query history
//   - Pluggable storage (memory, SQLite, PostgreSQL, MongoDB)
//   - Lifecycle hooks for metrics and audit trails
//
// # Quick Start
//
// Create an engine over a store and the two capability providers:
//
//	import (
//	    "github.com/xraph/getanswer"
//	    "github.com/xraph/getanswer/provider/gemini"
//	    "github.com/xraph/getanswer/provider/vision"
//	    "github.com/xraph/getanswer/store/sqlite"
//	)
//
//	s, err := sqlite.Open("getanswer.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := getanswer.New(s,
//	    vision.New(visionKey),
//	    gemini.New(geminiKey),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop(ctx)
//
// # Credits
//
// A fresh ledger starts with DefaultBalance credits. Every change to the
// balance is recorded as a transaction and written through to the store in
// the same atomic write:
//
//	txID, err := engine.Ledger().Deduct(ctx, 2, "inference")
//	if errors.Is(err, getanswer.ErrInsufficientCredits) {
//	    // offer a grant
//	}
//
//	engine.Ledger().Restore(ctx, txID) // reverse a deduct
//	engine.Ledger().Grant(ctx, "credits_50")
//
// The balance always equals the opening balance plus the sum of adds minus
// the sum of successful deducts. Verify checks it.
//
// # Queries
//
// RunQuery takes an image through extraction, authorization, inference and
// persistence:
//
//	res, err := engine.Pipeline().RunQuery(ctx, getanswer.Image{Ref: uri, Data: jpeg})
//	var perr *getanswer.PipelineError
//	if errors.As(err, &perr) {
//	    // perr.Kind tells the UI what to show; perr.Refunded says
//	    // whether the charge was given back
//	}
//
// Extraction is free unless WithExtractionMetering is set. A result whose
// Warning is non-nil has a valid answer that could not be saved to history.
//
// # TypeID
//
// Records use TypeID identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // credit transaction
//	hist_01h2xcejqtf2nbrexx3vqjhp41  // history entry
//	run_01h455vb4pex5vsknk084sn02q   // pipeline run
package getanswer
