package dbgpshare

// BuildVersion identifies this build of dbgpproxy in logs, the CLI help
// text, and the optional status endpoint.
const BuildVersion = "1.0.0"
