package protocol

// Directory constants.
const (
	// HomeDir is the user-level state directory (e.g., ~/.ragbridge).
	HomeDir = ".ragbridge"

	// EventLogFile is the default event journal file name inside HomeDir.
	EventLogFile = "events.db"
)

// Method names understood by the retrieval worker. The bridge itself treats
// every method as opaque; these are used by the MCP tool layer, the health
// probe and the dev worker.
const (
	MethodPing              = "ping"
	MethodIndexFiles        = "index_files"
	MethodInsertText        = "insert_text"
	MethodSearchCode        = "search_code"
	MethodGetEntity         = "get_entity"
	MethodGetRelationships  = "get_relationships"
	MethodVisualizeSubgraph = "visualize_subgraph"
	MethodIndexingStatus    = "get_indexing_status"
)

// PingResult is what a healthy worker answers to MethodPing.
const PingResult = "pong"

// Environment variables forming the worker's configuration snapshot. They
// are fixed at spawn time and never changed for a running worker.
const (
	EnvWorkingDir     = "LIGHTRAG_WORKING_DIR"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvOpenAIBaseURL  = "OPENAI_BASE_URL"
	EnvOpenAIModel    = "OPENAI_MODEL"
	EnvEmbeddingModel = "OPENAI_EMBEDDING_MODEL"
	EnvMilvusAddress  = "MILVUS_ADDRESS"
	EnvNeo4jURI       = "NEO4J_URI"
	EnvNeo4jUsername  = "NEO4J_USERNAME"
	EnvNeo4jPassword  = "NEO4J_PASSWORD"
)

// Search modes accepted by MethodSearchCode.
const (
	ModeNaive  = "naive"
	ModeLocal  = "local"
	ModeGlobal = "global"
	ModeHybrid = "hybrid"
	ModeMix    = "mix"
)

// SearchModes lists every valid search mode, default first.
var SearchModes = []string{ModeHybrid, ModeNaive, ModeLocal, ModeGlobal, ModeMix} //nolint:gochecknoglobals // read-only table
