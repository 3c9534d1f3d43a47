package keys

import "github.com/falk/hactool-go/pkg/crypto"

// generateKek reproduces hactool's three-stage unwrap:
// Decrypt(masterKey, Decrypt(masterKey, kekSeed) as kek, src), optionally
// re-wrapped through keySeed.
func generateKek(src, masterKey, kekSeed, keySeed []byte) ([]byte, error) {
	kek, err := crypto.ECBDecrypt(masterKey, kekSeed)
	if err != nil {
		return nil, err
	}
	srcKek, err := crypto.ECBDecrypt(kek, src)
	if err != nil {
		return nil, err
	}
	if keySeed != nil {
		return crypto.ECBDecrypt(srcKek, keySeed)
	}
	return srcKek, nil
}

// deriveGenerations derives TitleKeks and KeyAreaKeys for master key
// generations 0..2 from the raw keyfile entries, following the naming
// convention hactool's keygen does: aes_kek_generation_source,
// aes_key_generation_source, titlekek_source, the three
// key_area_key_*_source seeds, and master_key_%02x per generation.
func deriveGenerations(raw *rawKeys, ks *Keyset, prefix string) {
	aesKekGen := lookup(raw, prefix, "aes_kek_generation_source")
	aesKeyGen := lookup(raw, prefix, "aes_key_generation_source")
	titleKekSource := lookup(raw, prefix, "titlekek_source")

	areaSources := [3][]byte{
		lookup(raw, prefix, "key_area_key_application_source"),
		lookup(raw, prefix, "key_area_key_ocean_source"),
		lookup(raw, prefix, "key_area_key_system_source"),
	}

	if aesKekGen == nil || aesKeyGen == nil {
		return
	}

	for gen := 0; gen < 3; gen++ {
		masterKey := lookup(raw, prefix, masterKeyName(gen))
		if masterKey == nil {
			continue
		}

		if titleKekSource != nil {
			if tk, err := crypto.ECBDecrypt(masterKey, titleKekSource); err == nil && len(tk) == 16 {
				copy(ks.TitleKeks[gen][:], tk)
				ks.haveTitlekek[gen] = true
			}
		}

		for idx := 0; idx < 3; idx++ {
			if areaSources[idx] == nil {
				continue
			}
			kak, err := generateKek(areaSources[idx], masterKey, aesKekGen, aesKeyGen)
			if err == nil && len(kak) == 16 {
				copy(ks.KeyAreaKeys[gen][idx][:], kak)
				ks.haveKaek[gen][idx] = true
			}
		}
		ks.haveGen[gen] = true
	}
}

func lookup(raw *rawKeys, prefix, name string) []byte {
	if prefix != "" {
		if v := raw.get(prefix + name); v != nil {
			return v
		}
	}
	return raw.get(name)
}

func masterKeyName(gen int) string {
	return "master_key_0" + string(rune('0'+gen))
}
