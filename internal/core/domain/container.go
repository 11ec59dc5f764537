package domain

import (
	"fmt"
	"strings"
	"time"
)

type ContainerKind string

const (
	KindLocation ContainerKind = "location"
	KindOwner    ContainerKind = "owner"
	KindAsset    ContainerKind = "asset"
	KindPallet   ContainerKind = "pallet"
	KindBox      ContainerKind = "box"
	KindBuildKit ContainerKind = "buildkit"
	KindTerminal ContainerKind = "terminal"
)

// Owner ids with special meaning.
const (
	OwnerAll     = "all"
	OwnerTesting = "testing"
)

// Container is where a part record lives. ID is opaque to the ledger except for
// terminal containers, whose ID names the sentinel.
type Container struct {
	Kind ContainerKind `json:"kind"`
	ID   string        `json:"id"`
}

func Location(name string) Container { return Container{Kind: KindLocation, ID: name} }
func Owner(userID string) Container  { return Container{Kind: KindOwner, ID: userID} }
func Asset(tag string) Container     { return Container{Kind: KindAsset, ID: tag} }
func Pallet(tag string) Container    { return Container{Kind: KindPallet, ID: tag} }
func Box(tag string) Container       { return Container{Kind: KindBox, ID: tag} }
func BuildKit(id string) Container   { return Container{Kind: KindBuildKit, ID: id} }
func Terminal(s Sentinel) Container  { return Container{Kind: KindTerminal, ID: string(s)} }

func (c Container) IsZero() bool { return c.Kind == "" && c.ID == "" }

func (c Container) String() string { return string(c.Kind) + ":" + c.ID }

// Seal returns the sentinel a successor placed in c must carry, if any.
func (c Container) Seal() (Sentinel, bool) {
	if c.Kind != KindTerminal {
		return "", false
	}
	return Sentinel(c.ID), true
}

func (c Container) Validate() error {
	switch c.Kind {
	case KindLocation, KindOwner, KindAsset, KindPallet, KindBox, KindBuildKit:
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("%w: %s container needs an identifier", ErrInvalidContainer, c.Kind)
		}
		return nil
	case KindTerminal:
		if !IsSentinel(c.ID) {
			return fmt.Errorf("%w: unknown terminal state %q", ErrInvalidContainer, c.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidContainer, c.Kind)
	}
}

// ParseContainer accepts the "kind:id" form produced by String.
func ParseContainer(s string) (Container, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Container{}, fmt.Errorf("%w: %q", ErrInvalidContainer, s)
	}
	c := Container{Kind: ContainerKind(kind), ID: id}
	return c, c.Validate()
}

// ContainerVersion is one version of a container entity's own metadata
// (asset, pallet, box, build kit or user document). The ledger only reads them.
type ContainerVersion struct {
	ID           string
	Container    Container
	Building     int
	By           string
	DateCreated  time.Time
	DateReplaced *time.Time
	Prev         string
	Next         string
}

func (v ContainerVersion) ActiveAt(t time.Time) bool {
	if v.DateCreated.After(t) {
		return false
	}
	return v.DateReplaced == nil || v.DateReplaced.After(t)
}

// PartType is the catalog entry for an nxid.
type PartType struct {
	NXID       string `yaml:"nxid" json:"nxid"`
	Name       string `yaml:"name" json:"name"`
	Consumable bool   `yaml:"consumable" json:"consumable"`
}
