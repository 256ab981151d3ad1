package pod

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/auth"
)

// DirectAccess is the ssh-style credential set handed to the user. The
// plaintext passwords exist only in this response; the row keeps bcrypt
// hashes.
type DirectAccess struct {
	AuthKey string            `json:"auth"`
	Links   map[string]string `json:"links"`
}

// storedCredentials is the at-rest form.
type storedCredentials struct {
	Users map[string]string `json:"users"` // container name -> bcrypt hash
}

// directAccessUser builds the login for one container: a pod-id prefix plus
// the container name, unique across the node's ssh frontend.
func directAccessUser(podID uuid.UUID, container string) string {
	prefix := strings.ReplaceAll(podID.String(), "-", "")[:8]
	return prefix + "_" + container
}

// DirectAccess issues fresh per-container credentials for a running pod.
// Every call rotates the passwords; only the hashes are stored.
func (s *Service) DirectAccess(ctx context.Context, caller *auth.Identity, podID uuid.UUID) (DirectAccess, error) {
	p, err := s.Get(ctx, caller, podID)
	if err != nil {
		return DirectAccess{}, err
	}
	if p.Status != StatusRunning {
		return DirectAccess{}, apierror.PermissionDenied(
			"direct access requires a running pod; %q is %s", p.Name, p.Status)
	}

	out := DirectAccess{Links: map[string]string{}}
	stored := storedCredentials{Users: map[string]string{}}
	for _, c := range p.Config.Containers {
		password := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return DirectAccess{}, fmt.Errorf("hashing direct access password: %w", err)
		}
		user := directAccessUser(p.ID, c.Name)
		stored.Users[c.Name] = string(hash)
		out.Links[c.Name] = user + ":" + password
	}
	out.AuthKey = directAccessUser(p.ID, "root")

	blob, err := json.Marshal(stored)
	if err != nil {
		return DirectAccess{}, fmt.Errorf("encoding direct access credentials: %w", err)
	}
	if err := s.store.SetDirectAccess(ctx, p.ID, blob); err != nil {
		return DirectAccess{}, err
	}
	return out, nil
}
