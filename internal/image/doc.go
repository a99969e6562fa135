// Package image implements the Image Builder: turning a named base
// image plus a kvm-auto guest spec into a bootable qcow2 disk.
//
// "Build base" is realized as a backing-store volume clone through
// internal/storage rather than a literal invocation of a template-building
// tool: the base image already lives in the cyrange-images pool, so
// cloning it via a qcow2 backing file is both the fast path and the one
// internal/storage already supports. Build-time add_account/modify_account
// customization is the one step this package actually shells out for, via
// virt-customize through internal/cmdexec, since the pack carries no
// libguestfs Go binding. All other declared task kinds are left for
// internal/taskexec to run post-boot; Build does not treat them as errors.
package image
