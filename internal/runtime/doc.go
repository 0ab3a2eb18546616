// Package runtime manages build containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon, prepares base images
// (importing OCI archives or tagging images already in the store), and
// starts build containers with overlayfs snapshots. Each [Container]
// wraps a running containerd task: commands are executed inside it, the
// working tree is copied in and build output copied out as tar streams,
// and the final filesystem state can be committed and exported as a new
// OCI archive.
//
// The container engine runs command builds here; the image pipeline uses
// the same primitives to run containerized builds and export the result.
// Containers should be destroyed when no longer needed to release their
// snapshot and task resources.
//
// Example usage:
//
//	rt, err := runtime.New(runtime.DefaultAddress, runtime.DefaultNamespace)
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	if err := rt.Prepare(ctx, "images/debian-12.tar", "demo-1.0.0-debian:latest"); err != nil {
//	    return err
//	}
//
//	ctr, err := rt.Start(ctx, "demo-1.0.0-debian:latest", "forge-demo-debian")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, "/bin/sh", "make", nil, "/build")
package runtime
