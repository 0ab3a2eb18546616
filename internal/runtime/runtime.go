package runtime

import (
	"context"
	"errors"
	"log/slog"
	"os"
	goruntime "runtime"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"

	"github.com/cruciblehq/forge/internal/errutil"
)

var (
	ErrRuntime        = errors.New("runtime error")
	ErrUnavailable    = errors.New("container runtime unavailable")
	ErrEmptyArchive   = errors.New("archive contains no image")
	ErrMultipleImages = errors.New("archive contains multiple images")
	ErrEmptyIndex     = errors.New("empty image index")
)

const (

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)),
	// allowing forge to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"

	// Default containerd socket address.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace scoping all forge operations.
	DefaultNamespace = "forge"
)

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client *containerd.Client // Containerd client for managing containers and images.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations. The runtime must be
// closed when no longer needed. Empty address and namespace fall back to
// the defaults.
func New(address, namespace string) (*Runtime, error) {
	if address == "" {
		address = DefaultAddress
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, errutil.Wrap(ErrUnavailable, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Verifies the container runtime is present and usable.
//
// Asks the daemon for its version; any transport or server error means
// containerized builds cannot proceed.
func (rt *Runtime) CheckAvailable(ctx context.Context) error {
	version, err := rt.client.Version(ctx)
	if err != nil {
		return errutil.Wrap(ErrUnavailable, err)
	}
	slog.Debug("container runtime available", "version", version.Version)
	return nil
}

// Makes a base image available under the given tag and unpacks it for the
// host platform.
//
// The base may be an OCI archive on the local filesystem, which is
// imported into the content store, or the tag of an image already known
// to containerd, which is only unpacked.
func (rt *Runtime) Prepare(ctx context.Context, base, tag string) error {
	if isArchive(base) {
		source, err := rt.importArchive(ctx, base)
		if err != nil {
			return errutil.Wrap(ErrRuntime, err)
		}
		if err := rt.tagImage(ctx, source, tag); err != nil {
			return errutil.Wrap(ErrRuntime, err)
		}
	} else if err := rt.tagExisting(ctx, base, tag); err != nil {
		return errutil.Wrap(ErrRuntime, err)
	}

	if err := rt.unpackImage(ctx, tag, defaultPlatform()); err != nil {
		return errutil.Wrap(ErrRuntime, err)
	}

	slog.Debug("base image prepared", "base", base, "tag", tag)
	return nil
}

// Starts a build container from a previously prepared image tag.
//
// Any stale container with the same ID from an earlier invocation is
// cleaned up first. The container runs detached with a long-running task
// so that subsequent Exec calls have a running process to attach to.
func (rt *Runtime) Start(ctx context.Context, tag, id string) (*Container, error) {
	c := &Container{
		client:   rt.client,
		id:       id,
		platform: defaultPlatform(),
	}

	c.remove(ctx)

	image, err := rt.resolveImage(ctx, tag, c.platform)
	if err != nil {
		return nil, errutil.Wrap(ErrRuntime, err)
	}

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, errutil.Wrap(ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, errutil.Wrap(ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", tag)
	return c, nil
}

// Removes an image and all containers created from it.
//
// Containers are discovered by querying containerd for records whose image
// field matches the tag. Each container's task is killed before the
// container and its snapshot are deleted.
func (rt *Runtime) DestroyImage(ctx context.Context, tag string) error {
	ctrs, err := rt.client.Containers(ctx, "image=="+tag)
	if err != nil {
		return errutil.Wrap(ErrRuntime, err)
	}

	for _, ctr := range ctrs {
		if task, taskErr := ctr.Task(ctx, nil); taskErr == nil {
			task.Kill(ctx, syscall.SIGKILL)
			task.Delete(ctx, containerd.WithProcessKill)
		}
		if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return errutil.Wrap(ErrRuntime, err)
		}
	}

	if err := rt.client.ImageService().Delete(ctx, tag); err != nil && !errdefs.IsNotFound(err) {
		return errutil.Wrap(ErrRuntime, err)
	}

	slog.Debug("image destroyed", "tag", tag)
	return nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives
// are supported (single OCI index with per-platform manifests).
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	// Import returns one record per image in the archive's index.json.
	// A multi-platform archive has a single entry (an OCI index that
	// internally references per-platform manifests). Multiple records
	// would mean multiple unrelated images, which we don't support.
	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Tags an imported image under a deterministic name.
//
// Updates the tag if it already exists. Removes the source record when
// its name differs from the tag to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Tags an image already known to containerd under a new name.
func (rt *Runtime) tagExisting(ctx context.Context, name, tag string) error {
	img, err := rt.client.ImageService().Get(ctx, name)
	if err != nil {
		return err
	}
	return rt.tagImage(ctx, img, tag)
}

// Unpacks the image layers for the target platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) error {
	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, snapshotter)
}

// Looks up a tagged image and selects the manifest for the given platform.
//
// Multi-platform images contain manifests for multiple architectures. This
// method selects one, so that subsequent operations target the correct
// architecture.
func (rt *Runtime) resolveImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Whether a base image reference points at an OCI archive on disk.
func isArchive(base string) bool {
	info, err := os.Stat(base)
	return err == nil && info.Mode().IsRegular()
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
