package resilinet

//
// Netlink-backed network control
//

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// netlinkControl implements [NetworkControl] on top of netlink.
type netlinkControl struct {
	// logger is the logger to use.
	logger Logger
}

var _ NetworkControl = &netlinkControl{}

// NewNetlinkControl creates the real [NetworkControl] implementation that
// manipulates kernel namespaces, veth links, addresses, and netem
// queueing disciplines through netlink. All operations require
// CAP_NET_ADMIN and fail with [ErrPermissionDenied] without it.
func NewNetlinkControl(logger Logger) NetworkControl {
	return &netlinkControl{logger: logger}
}

// wrapOp annotates a capability error with the failed operation while
// classifying kernel errnos into the package error taxonomy.
func wrapOp(err error, op, id string) error {
	if err == nil {
		return nil
	}
	if classified := classifyErrno(err); classified != err {
		return fmt.Errorf("%w: %s %s: %v", classified, op, id, err)
	}
	return fmt.Errorf("resilinet: %s %s: %w", op, id, err)
}

// CreateNamespace implements NetworkControl.
//
// The kernel only creates a network namespace by unsharing the calling
// thread into it, so we pin the goroutine to its OS-level thread, create
// the named namespace, and switch the thread back before returning.
func (nc *netlinkControl) CreateNamespace(name string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return wrapOp(err, "get current namespace before creating", name)
	}
	defer origin.Close()

	handle, err := netns.NewNamed(name)
	// Regardless of the outcome the thread may now be attached to the
	// new namespace, so restore the origin first.
	if restoreErr := netns.Set(origin); restoreErr != nil {
		return wrapOp(restoreErr, "restore namespace after creating", name)
	}
	if err != nil {
		return wrapOp(err, "create namespace", name)
	}
	handle.Close()
	nc.logger.Debugf("netctl: created namespace %s", name)
	return nil
}

// DeleteNamespace implements NetworkControl.
func (nc *netlinkControl) DeleteNamespace(name string) error {
	if err := netns.DeleteNamed(name); err != nil {
		return wrapOp(err, "delete namespace", name)
	}
	nc.logger.Debugf("netctl: deleted namespace %s", name)
	return nil
}

// withHandle runs fn with a netlink handle scoped to the given namespace,
// or to the host namespace when namespace is empty.
func (nc *netlinkControl) withHandle(namespace string, fn func(handle *netlink.Handle) error) error {
	if namespace == "" {
		handle, err := netlink.NewHandle()
		if err != nil {
			return err
		}
		defer handle.Close()
		return fn(handle)
	}
	nsh, err := netns.GetFromName(namespace)
	if err != nil {
		return fmt.Errorf("%w: namespace %s: %v", ErrResourceNotFound, namespace, err)
	}
	defer nsh.Close()
	handle, err := netlink.NewHandleAt(nsh)
	if err != nil {
		return err
	}
	defer handle.Close()
	return fn(handle)
}

// findLink resolves an interface name inside a handle's namespace,
// mapping netlink's link-not-found onto [ErrResourceNotFound].
func findLink(handle *netlink.Handle, name string) (netlink.Link, error) {
	link, err := handle.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: interface %s", ErrResourceNotFound, name)
		}
		return nil, wrapOp(err, "lookup interface", name)
	}
	return link, nil
}

// CreateVethPair implements NetworkControl.
func (nc *netlinkControl) CreateVethPair(name, peerName string) error {
	return nc.withHandle("", func(handle *netlink.Handle) error {
		veth := &netlink.Veth{
			LinkAttrs: netlink.LinkAttrs{Name: name},
			PeerName:  peerName,
		}
		if err := handle.LinkAdd(veth); err != nil {
			return wrapOp(err, "create veth pair", name+"/"+peerName)
		}
		nc.logger.Debugf("netctl: created veth pair %s <-> %s", name, peerName)
		return nil
	})
}

// DeleteInterface implements NetworkControl.
func (nc *netlinkControl) DeleteInterface(name string) error {
	return nc.withHandle("", func(handle *netlink.Handle) error {
		link, err := findLink(handle, name)
		if err != nil {
			return err
		}
		if err := handle.LinkDel(link); err != nil {
			return wrapOp(err, "delete interface", name)
		}
		nc.logger.Debugf("netctl: deleted interface %s", name)
		return nil
	})
}

// MoveInterface implements NetworkControl.
func (nc *netlinkControl) MoveInterface(name, namespace string) error {
	nsh, err := netns.GetFromName(namespace)
	if err != nil {
		return fmt.Errorf("%w: namespace %s: %v", ErrResourceNotFound, namespace, err)
	}
	defer nsh.Close()
	return nc.withHandle("", func(handle *netlink.Handle) error {
		link, err := findLink(handle, name)
		if err != nil {
			return err
		}
		if err := handle.LinkSetNsFd(link, int(nsh)); err != nil {
			return wrapOp(err, "move interface", name)
		}
		nc.logger.Debugf("netctl: moved interface %s into %s", name, namespace)
		return nil
	})
}

// SetInterfaceUp implements NetworkControl.
func (nc *netlinkControl) SetInterfaceUp(namespace, name string) error {
	return nc.withHandle(namespace, func(handle *netlink.Handle) error {
		link, err := findLink(handle, name)
		if err != nil {
			return err
		}
		if err := handle.LinkSetUp(link); err != nil {
			return wrapOp(err, "set up interface", name)
		}
		return nil
	})
}

// AssignAddress implements NetworkControl.
func (nc *netlinkControl) AssignAddress(namespace, name, cidr string) error {
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("resilinet: parse address %s: %w", cidr, err)
	}
	return nc.withHandle(namespace, func(handle *netlink.Handle) error {
		link, err := findLink(handle, name)
		if err != nil {
			return err
		}
		if err := handle.AddrAdd(link, addr); err != nil {
			return wrapOp(err, "assign address to", name)
		}
		nc.logger.Debugf("netctl: assigned %s to %s in %s", cidr, name, namespace)
		return nil
	})
}

// ReplaceNetem implements NetworkControl.
//
// The configuration is installed with a qdisc replace, a single netlink
// operation that atomically swaps any previous root qdisc for the new
// netem one: an observer never sees a half-applied mix of parameters.
func (nc *netlinkControl) ReplaceNetem(namespace, name string, cfg NetemConfig) error {
	return nc.withHandle(namespace, func(handle *netlink.Handle) error {
		link, err := findLink(handle, name)
		if err != nil {
			return err
		}
		attrs := netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Handle:    netlink.MakeHandle(1, 0),
			Parent:    netlink.HANDLE_ROOT,
		}
		netemAttrs := netlink.NetemQdiscAttrs{
			Latency: uint32(cfg.Delay.Microseconds()),
			Jitter:  uint32(cfg.Jitter.Microseconds()),
			Loss:    float32(cfg.LossPercent),
		}
		if cfg.ReorderPercent > 0 {
			netemAttrs.ReorderProb = float32(cfg.ReorderPercent)
			// netem requires a non-zero gap for reordering; 1 means
			// every selected packet jumps the delay queue.
			netemAttrs.Gap = 1
		}
		qdisc := netlink.NewNetem(attrs, netemAttrs)
		if err := handle.QdiscReplace(qdisc); err != nil {
			return wrapOp(err, "replace netem on", name)
		}
		nc.logger.Debugf("netctl: netem on %s in %s: %+v", name, namespace, cfg)
		return nil
	})
}

// DeleteRootQdisc implements NetworkControl.
func (nc *netlinkControl) DeleteRootQdisc(namespace, name string) error {
	return nc.withHandle(namespace, func(handle *netlink.Handle) error {
		link, err := findLink(handle, name)
		if err != nil {
			return err
		}
		qdisc := &netlink.GenericQdisc{
			QdiscAttrs: netlink.QdiscAttrs{
				LinkIndex: link.Attrs().Index,
				Handle:    netlink.MakeHandle(1, 0),
				Parent:    netlink.HANDLE_ROOT,
			},
			QdiscType: "netem",
		}
		if err := handle.QdiscDel(qdisc); err != nil {
			// the kernel answers ENOENT or EINVAL when there is no
			// root qdisc to delete
			if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EINVAL) {
				return fmt.Errorf("%w: no root qdisc on %s", ErrResourceNotFound, name)
			}
			return wrapOp(err, "delete root qdisc on", name)
		}
		nc.logger.Debugf("netctl: cleared root qdisc on %s in %s", name, namespace)
		return nil
	})
}
