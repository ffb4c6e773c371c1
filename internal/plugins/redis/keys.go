package redis

import "time"

const keyPrefix = "presence:"

func connKey(connID string) string {
	return keyPrefix + "conn:" + connID
}

func onlineKey(accountID string) string {
	return keyPrefix + "online:" + accountID
}

const offlineCandidatesKey = keyPrefix + "offline:candidates"

// ttlSeconds rounds ttl down to whole seconds, never below one.
func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
