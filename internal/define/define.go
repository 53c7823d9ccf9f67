package define

// AppID identifies the application for filesystem purposes (config dir,
// default db path, log dir).
const AppID = "raptorengine"

// DefaultSQLiteFileName is the default database file name under AppID's
// config directory.
const DefaultSQLiteFileName = "raptor.sqlite"
