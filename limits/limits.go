// Package limits holds the compile-time capacity caps shared across the
// session core. They are not configurable at runtime: a session is always
// bounded by a fixed compile-time maximum of players and spectators.
package limits

const (
	// MaxPlayers bounds the number of local+remote players in one session.
	MaxPlayers = 4
	// MaxSpectators bounds the number of spectator peers in one session.
	MaxSpectators = 32
)
