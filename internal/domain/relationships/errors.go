package relationships

import "errors"

var (
	ErrSelf               = errors.New("cannot target yourself")
	ErrUserNotFound       = errors.New("user not found")
	ErrBlocked            = errors.New("cannot send friend request to this user")
	ErrAlreadyPending     = errors.New("friend request already pending")
	ErrAlreadyFriends     = errors.New("already friends")
	ErrNotFound           = errors.New("friend request not found")
	ErrForbidden          = errors.New("not authorized to modify this friend request")
	ErrNotPending         = errors.New("friend request is not pending")
	ErrFriendshipNotFound = errors.New("friendship not found")
	ErrAlreadyBlocked     = errors.New("user already blocked")
	ErrBlockNotFound      = errors.New("block not found")
	ErrInvalidAction      = errors.New("invalid action")

	// errPairConflict is returned by repositories when the pair index rejects an insert.
	errPairConflict = errors.New("relationship already exists for pair")
)
