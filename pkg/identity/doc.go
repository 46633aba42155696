// Package identity issues and reads the opaque per-browser viewer id used
// for view/like dedup. The id is not an account and carries no user data.
package identity
