package room

// ClientId identifies a user across all of their sessions. Asserted by a
// signed join token; must be positive.
type ClientId uint64

// RoomId identifies a logical conferencing room. Asserted by a signed join
// token; must be positive. Rooms are created lazily on first join and torn
// down when the last participant leaves.
type RoomId uint64
