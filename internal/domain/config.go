package domain

// KeyPrefix namespaces every key the engine writes to a shared store.
const KeyPrefix = "tenderlens:"
