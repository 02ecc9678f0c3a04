package types

// WebFinger is a struct for a WebFinger response.
type WebFinger struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

// WebFingerLink is a struct for the links field of a WebFinger response.
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// PersonDocument is what discovery learns about a remote person.
type PersonDocument struct {
	GUID       string `json:"guid"`
	Handle     string `json:"handle"`
	PublicKey  string `json:"public_key"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Searchable bool   `json:"searchable,omitempty"`
}

// PodDocument publishes the key a pod signs its requests with.
type PodDocument struct {
	Host      string `json:"host"`
	PublicKey string `json:"public_key"`
}

// ---------------------------------------------------------------------

type PodConfig struct {
	Host           string `yaml:"host"`
	PrivateKey     string `yaml:"privateKey"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
}

// Handle builds a local handle for username.
func (c PodConfig) Handle(username string) string {
	return username + "@" + c.Host
}

type ImportStats struct {
	Aspects       int `json:"aspects"`
	Contacts      int `json:"contacts"`
	Posts         int `json:"posts"`
	Relayables    int `json:"relayables"`
	Subscriptions int `json:"subscriptions"`
	TagFollowings int `json:"tagFollowings"`
}

type FederationConfig struct {
	Scheme                  string `yaml:"scheme"`
	RetryMax                int    `yaml:"retryMax"`
	TimeoutSeconds          int    `yaml:"timeoutSeconds"`
	CacheTTLSeconds         int    `yaml:"cacheTTLSeconds"`
	NegativeCacheTTLSeconds int    `yaml:"negativeCacheTTLSeconds"`
}
