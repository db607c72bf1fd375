package utils

// ToolUserAgent is sent on outgoing requests unless the user overrides it.
const ToolUserAgent = "vidstash/1.0"

// TempDirName is the per-run scratch directory created under the output root.
// Each job owns a private subdirectory named by its ID.
const TempDirName = ".vidstash-temp"
