// Package casc reads files out of a local CASC installation.
//
// A storage is bootstrapped from four tables. The index shards map truncated
// encoded keys to locations in the data.NNN archives. The encoding table maps
// content hashes to encoded keys. The root table maps file name hashes and
// numeric file-data identifiers to content hashes. The build configuration
// names the encoding and root blobs that start the chain.
//
// Every stored blob is a BLTE container. Files are decoded lazily as they
// are read:
//
//	s, err := casc.Open("/games/World of Warcraft/_retail_")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	f, ok, err := s.OpenName(`Interface\FrameXML\Localization.lua`)
//	if err != nil {
//		return err
//	}
//	if !ok {
//		return fs.ErrNotExist
//	}
//	defer f.Close()
//	_, err = io.Copy(os.Stdout, f)
//
// Lookups that find nothing report ok == false rather than an error; errors
// are reserved for corrupt tables and I/O failures.
//
// Storage also implements fs.FS, fs.ReadFileFS and fs.StatFS, with names
// resolved through the root table.
package casc
