package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string     `json:"type"`
	ProtocolVersion   string     `json:"protocol_version"`
	SupportedVersions []string   `json:"supported_versions,omitempty"`
	ClientName        string     `json:"client_name"`
	Auth              *HelloAuth `json:"auth,omitempty"`
	// Identity is honored only when the server runs without an auth secret.
	Identity string `json:"identity,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type               string             `json:"type"`
	ProtocolVersion    string             `json:"protocol_version"`
	SelectedVersion    string             `json:"selected_version,omitempty"`
	ServerID           string             `json:"server_id"`
	SessionID          string             `json:"session_id"`
	Identity           string             `json:"identity"`
	ServerCapabilities ServerCapabilities `json:"server_capabilities"`
	Limits             Limits             `json:"limits"`
}

type ServerCapabilities struct {
	// LZ4Frames means large frames may carry FlagLZ4.
	LZ4Frames bool `json:"lz4_frames,omitempty"`
	Notices   bool `json:"notices,omitempty"`
}

type Limits struct {
	NameMaxLen        int     `json:"name_max_len"`
	DescriptionMaxLen int     `json:"description_max_len"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty"`
}
