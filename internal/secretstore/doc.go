// Package secretstore persists named secrets with a primary backend and a
// file fallback.
//
// Backends:
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//   - File: one 0600 file per secret in a per-user directory, created lazily
//   - Env: read-only environment variables for headless deployments
//
// Store combines a primary backend with the file fallback. Reads try the primary
// first and fall back to the file. Writes that fail on the primary land in the
// file; when the file also fails the value is kept in memory for the rest of the
// process. Store never returns persistence errors to its callers. Every
// degradation is logged and reported through an Outcome instead.
package secretstore
