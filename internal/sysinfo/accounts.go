package sysinfo

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// User mirrors one /etc/passwd record, the fields sysinfo.users exposes.
type User struct {
	Name  string `json:"name"`
	UID   int    `json:"uid"`
	GID   int    `json:"gid"`
	Home  string `json:"home"`
	Shell string `json:"shell"`
}

// Group mirrors one /etc/group record, the fields sysinfo.groups exposes.
type Group struct {
	Name    string   `json:"name"`
	GID     int      `json:"gid"`
	Members []string `json:"members"`
}

// ReadUsers parses /etc/passwd directly. No third-party /etc/passwd parser
// appears anywhere in the example pack, and the format is small and stable
// enough that reaching for one would add a dependency with no grounding —
// recorded in DESIGN.md as one of the few deliberate stdlib-only pieces.
func ReadUsers() ([]User, error) {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var users []User
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		users = append(users, User{
			Name: fields[0], UID: uid, GID: gid, Home: fields[5], Shell: fields[6],
		})
	}
	return users, scanner.Err()
}

// ReadGroups parses /etc/group, same rationale as ReadUsers.
func ReadGroups() ([]Group, error) {
	f, err := os.Open("/etc/group")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var groups []Group
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		gid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		var members []string
		if fields[3] != "" {
			members = strings.Split(fields[3], ",")
		}
		groups = append(groups, Group{Name: fields[0], GID: gid, Members: members})
	}
	return groups, scanner.Err()
}

// CurrentUser reports the identity the server process is running as, the
// backing data for sysinfo.current_user.
func CurrentUser() (User, error) {
	uid := os.Getuid()
	users, err := ReadUsers()
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.UID == uid {
			return u, nil
		}
	}
	return User{UID: uid, GID: os.Getgid()}, nil
}
