// Package credential manages the lifecycle of the signed-in identities.
//
// Manager is the composition root. It owns:
//   - CacheStore: persists the identity client's token cache in a secret store
//   - AccountSelector: remembers which cached account is current
//   - DeviceCodeFlow: the interactive sign-in state machine
//
// Construct exactly one Manager per process and pass it to every consumer.
// Call Shutdown from the host's lifecycle so a cache that changed since the last
// save (e.g. a silent refresh that could not be persisted) is written out.
//
// Adapter turns the Manager into an oauth2.TokenSource for HTTP clients:
//
//	adapter := credential.NewAdapter(manager)
//	client := &http.Client{Transport: &oauth2.Transport{Source: adapter}}
//
// Scopes are fixed when the Manager is constructed; Adapter ignores scopes
// requested per call.
package credential
