package types

// Version is the canonical project version.
// The CLI, the IPC frame contract and the notification payloads share it.
const Version = "0.2.0"
