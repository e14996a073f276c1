package main

// commands creates a new router and registers all the application's command handlers.
// This is the single source of truth for what commands the server supports.
func (app *application) commands() *Router {
	router := NewRouter()

	// Generic Commands
	router.Handle("PING", app.handlePing)
	router.Handle("DEL", app.handleDel)
	router.Handle("TYPE", app.handleType)
	router.Handle("MEMORY", app.handleMemory)

	// Persistence Control
	router.Handle("SAVE", app.handleSave)

	// Metrics
	router.Handle("INFO", app.handleInfo)

	// t-digest
	router.Handle("TDIGEST.CREATE", app.handleTDigestCreate)
	router.Handle("TDIGEST.ADD", app.handleTDigestAdd)
	router.Handle("TDIGEST.ADDW", app.handleTDigestAddWeighted)
	router.Handle("TDIGEST.QUANTILE", app.handleTDigestQuantile)
	router.Handle("TDIGEST.COMPRESS", app.handleTDigestCompress)
	router.Handle("TDIGEST.MERGE", app.handleTDigestMerge)
	router.Handle("TDIGEST.INFO", app.handleTDigestInfo)

	// Count-Min Sketch
	router.Handle("CMS.INIT", app.handleCMSInit)
	router.Handle("CMS.INITBYPROB", app.handleCMSInitByProb)
	router.Handle("CMS.INCRBY", app.handleCMSIncrBy)
	router.Handle("CMS.QUERY", app.handleCMSQuery)
	router.Handle("CMS.MERGE", app.handleCMSMerge)

	// HyperLogLog
	router.Handle("HLL.INIT", app.handleHLLInit)
	router.Handle("HLL.ADD", app.handleHLLAdd)
	router.Handle("HLL.COUNT", app.handleHLLCount)
	router.Handle("HLL.INTERVAL", app.handleHLLInterval)
	router.Handle("HLL.MERGE", app.handleHLLMerge)

	// MinHash
	router.Handle("MINHASH.INIT", app.handleMinHashInit)
	router.Handle("MINHASH.ADD", app.handleMinHashAdd)
	router.Handle("MINHASH.SIMILARITY", app.handleMinHashSimilarity)

	return router
}
