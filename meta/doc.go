// Package meta validates the trust metadata stored at the end of a rootfs partition and
// derives the device mapper tables needed to protect it.
//
// The last RegionSize bytes of the partition hold a NUL-terminated metadata string, the
// signature over that string (terminator included) and padding:
//
//	COMINIT-META-1 ext4 ro verity 0xFF 1 4096 4096 1000 1001 sha256 <root-hash> <salt> 0xFF <crypt> \0 <signature>
//
// Pipeline.Load reads the region, checks the signature and only then parses the string.
// dm-verity records get a table using the partition as both data and hash device,
// dm-integrity records get a table whose keyring references are replaced by hex encoded
// keys. dm-crypt tables are not generated.
//
// Every failure is final; the caller decides whether to try another device.
package meta
