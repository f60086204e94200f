package server

// Build-time metadata variables set via LD flags
var (
	BuildAgentName        = "ark-agent"
	BuildAgentDescription = "An A2A protocol agent built with the ark server runtime"
	BuildAgentVersion     = "0.1.0"
)
