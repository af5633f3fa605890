package usage

// SetEndpoints points the fixed usage URLs at test servers.
func (f *Fetcher) SetEndpoints(anthropicURL, zaiURL string) {
	f.anthropicURL = anthropicURL
	f.zaiURL = zaiURL
}
