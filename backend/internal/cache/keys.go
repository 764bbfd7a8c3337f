package cache

import "fmt"

// Key layout:
// - roomKey(boardID):  online members, ZSet<userId, expireAtUnix>
// - namesKey(boardID): userId -> {"name","color"} Hash
// - boardsKey():       boards with presence, Set<boardID>
//
// The {boardID:...} hash tag keeps one board's keys on one cluster slot so
// the cleanup script can touch both.
const (
	keyRoomFmt   = "board:presence:{boardID:%s}"
	keyNamesFmt  = "board:presence:names:{boardID:%s}"
	keyBoardsSet = "board:presence:boards"
)

func roomKey(boardID string) string  { return fmt.Sprintf(keyRoomFmt, boardID) }
func namesKey(boardID string) string { return fmt.Sprintf(keyNamesFmt, boardID) }
func boardsKey() string              { return keyBoardsSet }
