package common

// UserAgent identifies the collector on every outgoing request.
const UserAgent = "kucoin-data-collector/1.0"
