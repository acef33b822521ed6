package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a commented input file for kind.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "hubbard":
		return hubbardTemplate, nil
	case "t2g":
		return t2gTemplate, nil
	default:
		return "", fmt.Errorf("unknown template kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("input already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hubbardTemplate = `# single-band Hubbard model on the Bethe lattice
[model]
seedname = "bethe"
lattice = "bethe"
norb = 1
nelec = 1.0
t = 0.5
interaction = "kanamori"
kanamori = [[2.0, 0.0, 0.0]]

[system]
beta = 20.0
n_iw = 512
nk = 200
fix_mu = true
mu = 1.0
with_dc = true

[control]
max_step = 10
sigma_mix = 0.5

[impurity_solver]
name = "hartree-fock"
params = ["max_iter{int}=100", "tol{float}=1e-10"]
`

const t2gTemplate = `# three-orbital t2g shell on the square lattice
[model]
seedname = "t2g"
lattice = "square"
norb = 3
nelec = 2.0
t = -1.0
interaction = "slater_uj"
slater_uj = [[2, 4.0, 0.7]]

[system]
beta = 10.0
n_iw = 256
n_l = 30
nk = 16
prec_mu = 1e-4

[control]
max_step = 20
sigma_mix = 0.7

[impurity_solver]
name = "hartree-fock"

[impurity_solver.options]
max_iter = 200
mixing = 0.5
verbosity = 1
`
