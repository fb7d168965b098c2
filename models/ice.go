package models

// ICEServer is one entry of RTCConfiguration.iceServers.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEConfig is served to call clients before they build a peer connection.
// TTLSeconds is zero when no TURN credentials are included.
type ICEConfig struct {
	ICEServers []ICEServer `json:"ice_servers"`
	TTLSeconds int         `json:"ttl_seconds"`
}
