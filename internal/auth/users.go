package auth

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// User is one entry of the registry file.
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	IsAdmin      bool   `yaml:"is_admin"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Users is the YAML-backed user registry. The file is rewritten after every
// mutation, matching the other flat-file stores.
type Users struct {
	path string

	mu    sync.Mutex
	users []User
}

// OpenUsers loads the registry, creating an empty file if none exists.
func OpenUsers(path string) (*Users, error) {
	u := &Users{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := u.save(); err != nil {
			return nil, err
		}
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}

	var f usersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing users file: %w", err)
	}
	u.users = f.Users
	return u, nil
}

// Authenticate verifies credentials and returns the matching user.
func (u *Users) Authenticate(username, password string) (User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, usr := range u.users {
		if usr.Username == username && CheckPassword(password, usr.PasswordHash) {
			return usr, nil
		}
	}
	return User{}, ErrInvalidCredentials
}

// Add hashes the password and appends a new user.
func (u *Users) Add(username, password string, isAdmin bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, usr := range u.users {
		if usr.Username == username {
			return ErrUserExists
		}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	u.users = append(u.users, User{Username: username, PasswordHash: hash, IsAdmin: isAdmin})
	return u.save()
}

// Remove deletes a user by name.
func (u *Users) Remove(username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, usr := range u.users {
		if usr.Username == username {
			u.users = append(u.users[:i], u.users[i+1:]...)
			return u.save()
		}
	}
	return ErrUserNotFound
}

// List returns the usernames and admin flags, never the hashes.
func (u *Users) List() []User {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]User, len(u.users))
	for i, usr := range u.users {
		out[i] = User{Username: usr.Username, IsAdmin: usr.IsAdmin}
	}
	return out
}

// save must be called with the lock held.
func (u *Users) save() error {
	raw, err := yaml.Marshal(usersFile{Users: u.users})
	if err != nil {
		return fmt.Errorf("encoding users file: %w", err)
	}
	if err := os.WriteFile(u.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing users file: %w", err)
	}
	return nil
}
